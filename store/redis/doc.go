// Package redisstore keeps user sessions and callback claims in Redis so
// several processes can route the same auth flows.
package redisstore
