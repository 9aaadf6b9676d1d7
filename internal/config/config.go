// Package config centralizes the tunables the wallet core needs, in
// place of the module-level globals and printed banners of hand-rolled
// configuration: a Config value is constructed once and passed to
// Wallet.Open / the synchronizer, never read from package state.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// TransportKind selects which wire transport the server client uses.
type TransportKind string

const (
	TransportNative  TransportKind = "native"  // short-lived TCP, literal tuples
	TransportJSONRPC TransportKind = "jsonrpc" // persistent TCP, newline-delimited JSON
	TransportHTTP    TransportKind = "http"    // one POST per request
)

// Config holds every configurable parameter for the wallet core.
type Config struct {
	Network models.Network

	GapLimit uint32
	FeePerKB uint64 // satoshis per kilobyte, used when the caller doesn't supply a fee

	ServerEndpoint string
	Transport      TransportKind

	NativeTimeout       time.Duration // per-request timeout, native/json-rpc transports
	MerkleTimeout       time.Duration // per-request timeout, merkle/header fetches
	ReconnectBaseDelay  time.Duration
	BroadcastMaxRetries int

	SaveDebounce time.Duration // minimum interval between atomic saves triggered by sync events

	VerifierMaxRetries int // bounded retries for a single tx's merkle branch before giving up for this tick
}

// Default returns a Config populated with the wallet core's default
// tunables.
func Default() Config {
	return Config{
		Network: models.NetworkMainnet,

		GapLimit: 20,
		FeePerKB: 1000,

		ServerEndpoint: "",
		Transport:      TransportJSONRPC,

		NativeTimeout:       5 * time.Second,
		MerkleTimeout:       30 * time.Second,
		ReconnectBaseDelay:  1 * time.Second,
		BroadcastMaxRetries: 3,

		SaveDebounce: 2 * time.Second,

		VerifierMaxRetries: 5,
	}
}

// FromEnv returns a Config populated from environment variables, falling
// back to Default() for anything unset.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("WALLET_GAP_LIMIT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.GapLimit = uint32(n)
		}
	}
	if v := os.Getenv("WALLET_FEE_PER_KB"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.FeePerKB = n
		}
	}
	if v := os.Getenv("WALLET_SERVER"); v != "" {
		cfg.ServerEndpoint = v
	}
	if v := os.Getenv("WALLET_TRANSPORT"); v != "" {
		cfg.Transport = TransportKind(v)
	}
	if v := os.Getenv("WALLET_NATIVE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.NativeTimeout = d
		}
	}
	if v := os.Getenv("WALLET_MERKLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MerkleTimeout = d
		}
	}
	if v := os.Getenv("WALLET_BROADCAST_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BroadcastMaxRetries = n
		}
	}
	if v := os.Getenv("WALLET_TESTNET"); v == "true" {
		cfg.Network = models.NetworkTestnet
	}

	return cfg
}
