/*
Package events provides an in-memory event broker for shardwave's pub/sub
messaging.

The events package implements a lightweight event bus for broadcasting
segment, collection and resharding events to interested subscribers. It
supports topic-agnostic, asynchronous event delivery, enabling loose
coupling between shardwave components for state changes, notifications,
and monitoring.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Buffered publish (waits when full)       │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Segment Events:                            │          │
	│  │    - segment.created                        │          │
	│  │    - segment.sealed                         │          │
	│  │    - segment.optimized                      │          │
	│  │    - segment.quarantined                    │          │
	│  │                                              │          │
	│  │  Collection Events:                         │          │
	│  │    - collection.created                     │          │
	│  │    - collection.dropped                     │          │
	│  │    - shard.added                            │          │
	│  │                                              │          │
	│  │  Resharding Events:                         │          │
	│  │    - reshard.started                        │          │
	│  │    - reshard.migrating_points                │          │
	│  │    - reshard.write_ring_committed            │          │
	│  │    - reshard.finished, reshard.failed        │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  API Server: Stream events to gRPC clients  │          │
	│  │  Metrics: Count events for dashboards       │          │
	│  │  Audit log: Record resharding lifecycle     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Buffered publish channel; Publish waits for room or Stop
  - Graceful shutdown via stop channel

Event:
  - ID: Unique event identifier
  - Type: Event type (segment.optimized, reshard.failed, etc.)
  - Timestamp: When event occurred
  - Message: Human-readable description
  - Metadata: Key-value pairs for additional context (collection,
    shard id, segment id, reshard key)

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

# Event Flow

Publish Flow:
 1. Publisher calls broker.Publish(event)
 2. Event added to main event channel (waits while it is full)
 3. Broadcast loop receives event
 4. Event sent to all subscriber channels
 5. Subscribers receive event asynchronously
 6. Full subscriber buffers skip (no blocking)

Subscribe Flow:
 1. Subscriber calls broker.Subscribe()
 2. New buffered channel created and registered
 3. Subscriber receives events via channel in its own goroutine

Unsubscribe Flow:
 1. Subscriber calls broker.Unsubscribe(channel)
 2. Channel removed from subscriber map and closed

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventSegmentQuarantined:
				log.Warn().Str("segment", event.Metadata["segment_id"]).Msg(event.Message)
			case events.EventReshardFailed:
				log.Error().Str("reshard_key", event.Metadata["reshard_key"]).Msg(event.Message)
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventSegmentOptimized,
		Message: "segment 7 merged into segment 12",
		Metadata: map[string]string{
			"collection": "widgets",
			"segment_id": "12",
		},
	})

# Event Types Catalog

Segment Events:

EventSegmentSealed:
  - Published by pkg/collection's Collection.Seal, once for each shard
    whose segments it seals read-only.

EventSegmentCreated / EventSegmentOptimized / EventSegmentQuarantined:
  - Defined for a new appendable segment, an optimizer merge (spec.md
    §4.3's swap_new) and a segment pulled out of service; no package in
    this module publishes them.

Collection Events:

EventCollectionCreated / EventCollectionDropped:
  - Published on collection lifecycle boundaries.

EventShardAdded:
  - Published when a new shard is registered on a collection's hash ring.

Resharding Events (spec.md §4.6's three stages):

EventReshardStarted, EventReshardMigrating, EventReshardRingReady:
  - Published as a resharding operation advances through
    MigratingPoints, then commits the new hash ring side.

EventReshardFinished / EventReshardFailed:
  - Published on RunTask's terminal outcome.

# Design Patterns

Buffered Publish:
  - Publish sends to a buffered channel; when the buffer is full it
    waits until there is room, or until the broker is stopped (the
    event is then discarded)
  - Events are not dropped at this stage; drops happen only at full
    subscriber buffers (see Fan-Out)

Fan-Out:
  - Single event broadcast to all subscribers, each on its own channel
  - Full subscriber buffers skip their event instead of blocking the
    broadcast loop

Fire-and-Forget:
  - No acknowledgment, no retry, no ordering guarantee across
    subscribers — suitable for monitoring and notification, not for
    anything that must never miss an event

# Limitations

  - In-memory only, no persistence or replay
  - No guaranteed delivery
  - No topic-based filtering — subscribers filter by Type themselves

# See Also

  - pkg/collection for the resharding, shard and segment-sealed event
    sources
  - Pub/sub pattern: https://en.wikipedia.org/wiki/Publish%E2%80%93subscribe_pattern
*/
package events
