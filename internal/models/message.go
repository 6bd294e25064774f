// Package models defines the core data types for chat history.
package models

import (
	"fmt"
	"math"
)

// MessageID identifies a message inside its namespace.
type MessageID struct {
	Namespace int32 `json:"namespace" yaml:"namespace"`
	ID        int64 `json:"id" yaml:"id"`
}

func (id MessageID) String() string {
	return fmt.Sprintf("%d:%d", id.Namespace, id.ID)
}

// MessageIndex is the total-order sort key of a message in history.
type MessageIndex struct {
	Timestamp int64 `json:"timestamp" yaml:"timestamp"`
	Namespace int32 `json:"namespace" yaml:"namespace"`
	ID        int64 `json:"id" yaml:"id"`
}

// LowerBound returns an index that sorts before every real message.
func LowerBound() MessageIndex {
	return MessageIndex{Timestamp: math.MinInt64, Namespace: math.MinInt32, ID: math.MinInt64}
}

// UpperBound returns an index that sorts after every real message.
func UpperBound() MessageIndex {
	return MessageIndex{Timestamp: math.MaxInt64, Namespace: math.MaxInt32, ID: math.MaxInt64}
}

// MessageID returns the namespace/id pair of the index.
func (i MessageIndex) MessageID() MessageID {
	return MessageID{Namespace: i.Namespace, ID: i.ID}
}

// Compare returns -1, 0 or 1 ordering by timestamp, namespace, then id.
func (i MessageIndex) Compare(o MessageIndex) int {
	switch {
	case i.Timestamp < o.Timestamp:
		return -1
	case i.Timestamp > o.Timestamp:
		return 1
	case i.Namespace < o.Namespace:
		return -1
	case i.Namespace > o.Namespace:
		return 1
	case i.ID < o.ID:
		return -1
	case i.ID > o.ID:
		return 1
	}
	return 0
}

// Less reports whether i sorts before o.
func (i MessageIndex) Less(o MessageIndex) bool {
	return i.Compare(o) < 0
}

func (i MessageIndex) String() string {
	return fmt.Sprintf("%d/%d:%d", i.Timestamp, i.Namespace, i.ID)
}

// MessageFlags carries per-message boolean state.
type MessageFlags uint8

const (
	FlagIncoming MessageFlags = 1 << iota
	FlagUnsent
)

// MessageTags marks messages that belong to tagged collections.
type MessageTags uint8

const (
	TagUnseenMention MessageTags = 1 << iota
)

// AttributeKind identifies a message attribute.
type AttributeKind string

const (
	AttributeViewCount         AttributeKind = "view_count"
	AttributeConsumableContent AttributeKind = "consumable_content"
	AttributeConsumableMention AttributeKind = "consumable_mention"
)

// Attribute is a typed message annotation.
type Attribute struct {
	Kind     AttributeKind `json:"kind" yaml:"kind"`
	Count    int           `json:"count,omitempty" yaml:"count,omitempty"`
	Consumed bool          `json:"consumed,omitempty" yaml:"consumed,omitempty"`
	Pending  bool          `json:"pending,omitempty" yaml:"pending,omitempty"`
}

// MediaKind identifies the kind of attached media.
type MediaKind string

const (
	MediaImage       MediaKind = "image"
	MediaFile        MediaKind = "file"
	MediaUnsupported MediaKind = "unsupported"
	MediaAction      MediaKind = "action"
)

// ActionKind identifies a service action carried by MediaAction.
type ActionKind string

const (
	ActionGeneric        ActionKind = "generic"
	ActionHistoryCleared ActionKind = "history_cleared"
	ActionMigrated       ActionKind = "migrated"
)

// Media is an attachment on a message.
type Media struct {
	ID     string     `json:"id" yaml:"id"`
	Kind   MediaKind  `json:"kind" yaml:"kind"`
	Action ActionKind `json:"action,omitempty" yaml:"action,omitempty"`
	Size   int64      `json:"size,omitempty" yaml:"size,omitempty"`
}

// Prefetchable reports whether the media can be preloaded ahead of display.
func (m Media) Prefetchable() bool {
	return m.Kind == MediaImage || m.Kind == MediaFile
}

// Message is one history message.
type Message struct {
	Index      MessageIndex `json:"index" yaml:"index"`
	Author     string       `json:"author" yaml:"author"`
	Text       string       `json:"text" yaml:"text"`
	Revision   int64        `json:"revision,omitempty" yaml:"revision,omitempty"`
	Flags      MessageFlags `json:"flags,omitempty" yaml:"flags,omitempty"`
	Tags       MessageTags  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Attributes []Attribute  `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Media      []Media      `json:"media,omitempty" yaml:"media,omitempty"`
}

// Incoming reports whether the message was sent by someone else.
func (m *Message) Incoming() bool {
	return m.Flags&FlagIncoming != 0
}

// Attribute returns the first attribute of the given kind.
func (m *Message) Attribute(kind AttributeKind) (Attribute, bool) {
	for _, attr := range m.Attributes {
		if attr.Kind == kind {
			return attr, true
		}
	}
	return Attribute{}, false
}

// HasUnsupportedMedia reports whether any attachment needs a re-fetch.
func (m *Message) HasUnsupportedMedia() bool {
	for _, media := range m.Media {
		if media.Kind == MediaUnsupported {
			return true
		}
	}
	return false
}

// Action returns the service action kind, if the message is a service message.
func (m *Message) Action() (ActionKind, bool) {
	for _, media := range m.Media {
		if media.Kind == MediaAction {
			return media.Action, true
		}
	}
	return "", false
}

// NeedsMentionConsumption reports whether an unseen mention should be acknowledged.
func (m *Message) NeedsMentionConsumption() bool {
	if m.Tags&TagUnseenMention == 0 {
		return false
	}
	for _, attr := range m.Attributes {
		switch attr.Kind {
		case AttributeConsumableMention:
			if attr.Pending {
				return false
			}
		case AttributeConsumableContent:
			if !attr.Consumed {
				return false
			}
		}
	}
	return true
}

// Equal compares two messages by value.
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Index != o.Index || m.Revision != o.Revision || m.Flags != o.Flags || m.Tags != o.Tags {
		return false
	}
	if m.Author != o.Author || m.Text != o.Text {
		return false
	}
	if len(m.Attributes) != len(o.Attributes) || len(m.Media) != len(o.Media) {
		return false
	}
	for i := range m.Attributes {
		if m.Attributes[i] != o.Attributes[i] {
			return false
		}
	}
	for i := range m.Media {
		if m.Media[i] != o.Media[i] {
			return false
		}
	}
	return true
}

// Hole marks an unloaded range of history between Min and Max.
type Hole struct {
	Min MessageIndex `json:"min" yaml:"min"`
	Max MessageIndex `json:"max" yaml:"max"`
}

// Contains reports whether index lies inside the hole.
func (h Hole) Contains(index MessageIndex) bool {
	return h.Min.Compare(index) <= 0 && index.Compare(h.Max) <= 0
}

// EntryKind tags a RawEntry.
type EntryKind uint8

const (
	EntryMessage EntryKind = iota
	EntryHole
)

// RawEntry is one element of a store snapshot: a message or a hole.
type RawEntry struct {
	Kind    EntryKind
	Message *Message
	Hole    *Hole
	// Read is set by the store when the message is at or below the read index.
	Read bool
}

// MessageEntry wraps a message into a RawEntry.
func MessageEntry(msg *Message, read bool) RawEntry {
	return RawEntry{Kind: EntryMessage, Message: msg, Read: read}
}

// HoleEntry wraps a hole into a RawEntry.
func HoleEntry(hole Hole) RawEntry {
	return RawEntry{Kind: EntryHole, Hole: &hole}
}

// Index returns the sort key of the entry. Holes sort by their upper bound.
func (e RawEntry) Index() MessageIndex {
	if e.Kind == EntryHole && e.Hole != nil {
		return e.Hole.Max
	}
	if e.Message != nil {
		return e.Message.Index
	}
	return MessageIndex{}
}

// ReadState is the per-chat read position reported by the store.
type ReadState struct {
	MaxReadIndex *MessageIndex `json:"max_read_index,omitempty" yaml:"max_read_index,omitempty"`
	UnreadCount  int           `json:"unread_count" yaml:"unread_count"`
}

// SideData is auxiliary chat metadata shown while history loads.
type SideData struct {
	Title         string     `json:"title,omitempty" yaml:"title,omitempty"`
	ChatInfo      string     `json:"chat_info,omitempty" yaml:"chat_info,omitempty"`
	PinnedMessage *MessageID `json:"pinned_message,omitempty" yaml:"pinned_message,omitempty"`
	Admins        []string   `json:"admins,omitempty" yaml:"admins,omitempty"`
}
