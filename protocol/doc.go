// Package protocol owns the Winerp wire contract.
//
// Ownership boundary:
// - envelope struct and JSON codec
// - message type enumeration with integer wire codes
// - payload and route tagged shapes
package protocol
