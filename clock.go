package ges

import "time"

// nowFunc is indirected so cache-expiration tests can control time without
// sleeping. Not exported: applications influence expiration only through
// CachingStrategy durations.
var nowFunc = time.Now
