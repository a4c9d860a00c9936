// Package entities provides the value types that cross the guest/host boundary:
// buffer handles and the request/response envelopes of the script endpoint.
package entities
