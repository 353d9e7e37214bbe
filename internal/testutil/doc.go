// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing histories and scripted agents. Not intended
// for production usage.
package testutil
