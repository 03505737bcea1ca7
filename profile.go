/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"net/http/pprof"

	"github.com/julienschmidt/httprouter"
)

// Named runtime profiles served by pprof.Handler.
var runtimeProfiles = []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"}

var profileFuncs = map[string]http.HandlerFunc{
	"cmdline": pprof.Cmdline,
	"profile": pprof.Profile,
	"symbol":  pprof.Symbol,
	"trace":   pprof.Trace,
}

// registerProfileHandlers mounts pprof under /pprof.
func registerProfileHandlers(cfg *Config, mux *httprouter.Router) {
	for _, name := range runtimeProfiles {
		mux.Handler(http.MethodGet, cfg.prefix+"/pprof/"+name, pprof.Handler(name))
	}

	for name, handler := range profileFuncs {
		mux.HandlerFunc(http.MethodGet, cfg.prefix+"/pprof/"+name, handler)
	}

	logf(cfg, "START: Registered %d profiling endpoints under %s/pprof/",
		len(runtimeProfiles)+len(profileFuncs), cfg.prefix)
}
