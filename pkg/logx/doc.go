// Package logx is a thin zerolog wrapper with a live-reloadable sink set.
//
// Components hold a Logger value; the Service owns the actual sinks and can
// swap them on config reload without invalidating handed-out loggers.
package logx
