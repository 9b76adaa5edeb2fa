// Package logx is a thin structured-logging layer over zerolog.
//
// Components take a logx.Logger by value. The zero value is a safe no-op,
// so optional logging never needs nil checks. A Service owns the root
// logger and can swap sinks/levels at runtime via Apply (config hot
// reload); Loggers derived from a Service stay live across Apply calls.
package logx
