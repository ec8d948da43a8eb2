// Package dataprofile exposes a session's precomputed dataset profile ("Data DNA") to agents.
//
// A Store resolves profiles by session id. SessionToolProvider loads the profile once per
// turn, renders bounded schema text for prompt context, and executes the tool catalog
// (read_data_dna, read_context, write_context, run_sql, run_python, write_code) with JSON
// schema validated arguments. SQL and Python run on an external analysis backend reached
// through Executor.
package dataprofile
