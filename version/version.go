package version

// Version is overridden at build time with -ldflags "-X imgtriage/version.Version=...".
var Version = "0.3.0-dev"
