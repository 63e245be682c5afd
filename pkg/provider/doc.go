// Package provider defines the gateway interface to cloud provisioning
// backends and an HTTP bridge implementation. Gateways start actions and
// report their status; they hold no entity state.
package provider
