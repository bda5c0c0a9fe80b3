package fetch

// Version is the library version, set at release time.
const Version = "0.3.0"

// UserAgent identifies the library in outgoing requests when callers choose
// to set it.
const UserAgent = "fetch-go/" + Version
