// Package logx is taskd's logging layer over zerolog.
//
// Console output is human readable with a short file:line caller, the
// optional file sink is JSON. Components derive their logger with
// With(String("comp", ...)) and pass it down by value.
package logx
