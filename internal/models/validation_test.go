package models

import (
	"errors"
	"testing"
)

func msg(ts int64, id int64) *Message {
	return &Message{Index: MessageIndex{Timestamp: ts, Namespace: 1, ID: id}, Author: "a"}
}

func TestValidateEntriesAcceptsSortedSnapshot(t *testing.T) {
	entries := []RawEntry{
		MessageEntry(msg(10, 1), true),
		HoleEntry(Hole{Min: MessageIndex{Timestamp: 11, Namespace: 1}, Max: MessageIndex{Timestamp: 19, Namespace: 1}}),
		MessageEntry(msg(20, 2), false),
	}
	if err := ValidateEntries(entries); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateEntriesUnsorted(t *testing.T) {
	entries := []RawEntry{
		MessageEntry(msg(20, 2), false),
		MessageEntry(msg(10, 1), false),
	}
	err := ValidateEntries(entries)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrUnsortedEntries) {
		t.Fatalf("expected errors.Is to match ErrUnsortedEntries, got %v", err)
	}
}

func TestValidateEntriesDuplicateAndMalformed(t *testing.T) {
	entries := []RawEntry{
		MessageEntry(msg(10, 1), false),
		MessageEntry(msg(10, 1), false),
		{Kind: EntryHole},
	}
	err := ValidateEntries(entries)
	if err == nil {
		t.Fatal("expected error")
	}
	list, ok := err.(*ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors type, got %T", err)
	}
	if len(list.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(list.Errors), err)
	}
	if list.Errors[0].Field != "entries[1]" || !errors.Is(list.Errors[0].Cause, ErrDuplicateEntry) {
		t.Fatalf("unexpected first error %+v", list.Errors[0])
	}
	if list.Errors[1].Field != "entries[2]" || !errors.Is(list.Errors[1].Cause, ErrMalformedEntry) {
		t.Fatalf("unexpected second error %+v", list.Errors[1])
	}
}

func TestValidationErrorsNestedFields(t *testing.T) {
	nested := &ValidationErrors{}
	nested.Add("namespace", ErrMissingNamespace)

	validation := &ValidationErrors{}
	validation.Add("index", nested)

	list, ok := validation.Err().(*ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors type")
	}
	if len(list.Errors) != 1 || list.Errors[0].Field != "index.namespace" {
		t.Fatalf("expected field index.namespace, got %+v", list.Errors)
	}
}

func TestMessageIndexOrdering(t *testing.T) {
	a := MessageIndex{Timestamp: 10, Namespace: 1, ID: 5}
	b := MessageIndex{Timestamp: 10, Namespace: 2, ID: 1}
	c := MessageIndex{Timestamp: 11, Namespace: 0, ID: 0}

	if !a.Less(b) || !b.Less(c) || !a.Less(c) {
		t.Fatalf("expected a < b < c")
	}
	if LowerBound().Compare(a) >= 0 || UpperBound().Compare(c) <= 0 {
		t.Fatalf("bounds must enclose every index")
	}
	if a.Compare(a) != 0 {
		t.Fatalf("expected equal compare")
	}
}

func TestNeedsMentionConsumption(t *testing.T) {
	m := &Message{Tags: TagUnseenMention}
	if !m.NeedsMentionConsumption() {
		t.Fatal("plain unseen mention should be consumed")
	}
	m.Attributes = []Attribute{{Kind: AttributeConsumableMention, Pending: true}}
	if m.NeedsMentionConsumption() {
		t.Fatal("pending mention must not be consumed")
	}
	m.Attributes = []Attribute{{Kind: AttributeConsumableContent, Consumed: false}}
	if m.NeedsMentionConsumption() {
		t.Fatal("unconsumed content must not be consumed")
	}
}
