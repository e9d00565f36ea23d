package main

// Version is the build version, overridden at link time with
// -ldflags "-X main.Version=...".
var Version = "dev"
