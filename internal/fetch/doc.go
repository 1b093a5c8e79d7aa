// Package fetch resolves a media identifier to bytes through the cache tiers:
// memory first, then disk (promoting hits to memory), then the network
// collaborator (populating both tiers on success). Concurrent requests for
// the same cache key after a memory miss share one flight, so the disk lookup
// and the network fetch happen at most once per key at a time.
//
// A caller that gives up (its context ends) is released immediately with the
// context error. The shared flight keeps running on a detached context bounded
// by FlightTimeout, and its result still lands in both tiers.
package fetch
