// Package logx is mcwatch's structured logging, a thin layer over zerolog.
//
// Console output is human-readable, file output is JSON, and both can be
// swapped at runtime through Service.Apply without rebuilding the Loggers
// handed to components.
package logx
