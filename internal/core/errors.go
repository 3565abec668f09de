package core

import "errors"

var (
	// ErrNameTaken is returned when a client registers a name already in use.
	ErrNameTaken = errors.New("client name already in use")
	// ErrInvalidName is returned for empty, oversized or non-ASCII names.
	ErrInvalidName = errors.New("invalid client name")
	// ErrWrongPassword is returned when a join supplies the wrong channel password.
	ErrWrongPassword = errors.New("wrong channel password")
	// ErrAlreadyJoined is returned when a member joins a channel again.
	ErrAlreadyJoined = errors.New("already joined")
	// ErrNotInChannel is returned when a non-member leaves a channel.
	ErrNotInChannel = errors.New("not in channel")
	// ErrChannelNotFound is returned for operations on unknown channels.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrChannelExists is returned when creating a channel whose name is taken.
	ErrChannelExists = errors.New("channel already exists")
	// ErrInvalidChannelName is returned when creating a channel with a blank name.
	ErrInvalidChannelName = errors.New("invalid channel name")
	// ErrInjectQueueFull is returned when a channel's injection queue is saturated.
	ErrInjectQueueFull = errors.New("injection queue full")
	// ErrClientGone is returned when operating on a kicked client.
	ErrClientGone = errors.New("client disconnected")
)
