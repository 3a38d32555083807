// Package server is the transport around the relay core.
//
// A single Hub owns every websocket connection and feeds join, join_chat,
// send_message and history frames to the relay Registry, Router, Broadcaster
// and Dispatcher from one event loop. Each Client runs a read pump, which
// validates and rate limits inbound frames, and a write pump, which batches
// queued outbound frames one per line. NewRouter exposes the hub next to the
// account API over gin, and LoadConfig assembles the Config from defaults, an
// optional YAML file and the environment.
package server
