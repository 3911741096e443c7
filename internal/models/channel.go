package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ChannelKind identifies a delivery channel.
type ChannelKind string

const (
	ChannelSMS   ChannelKind = "sms"
	ChannelVoice ChannelKind = "voice"
	ChannelPush  ChannelKind = "push"
	ChannelEmail ChannelKind = "email"
)

// ChannelKinds lists every channel in redundancy preference order.
var ChannelKinds = []ChannelKind{ChannelSMS, ChannelVoice, ChannelPush, ChannelEmail}

func ParseChannelKind(s string) (ChannelKind, error) {
	kind := ChannelKind(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range ChannelKinds {
		if k == kind {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// ChannelSet is an explicit set of channels.
type ChannelSet map[ChannelKind]struct{}

func NewChannelSet(kinds ...ChannelKind) ChannelSet {
	set := ChannelSet{}
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}

func (s ChannelSet) Contains(kind ChannelKind) bool {
	_, ok := s[kind]
	return ok
}

// Slice returns the members sorted by name.
func (s ChannelSet) Slice() []ChannelKind {
	out := make([]ChannelKind, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ParseChannelSet(names []string) (ChannelSet, error) {
	set := ChannelSet{}
	for _, n := range names {
		k, err := ParseChannelKind(n)
		if err != nil {
			return nil, err
		}
		set[k] = struct{}{}
	}
	return set, nil
}

func (s ChannelSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *ChannelSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	set, err := ParseChannelSet(names)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

func (s ChannelSet) MarshalYAML() (interface{}, error) {
	return s.Slice(), nil
}

func (s *ChannelSet) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var names []string
	if err := unmarshal(&names); err != nil {
		return err
	}
	set, err := ParseChannelSet(names)
	if err != nil {
		return err
	}
	*s = set
	return nil
}
