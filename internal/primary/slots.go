package primary

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errSlotRange   = errors.New("slot out of range")
	errNoProfile   = errors.New("profile name is required")
	errSlotsFull   = errors.New("no free slot")
	errUnknownSlot = errors.New("device not bound to a slot")
)

// Slot is one controller position.
type Slot struct {
	Index       int
	Profile     string
	TempProfile string
	Device      string
	Connected   bool
}

// ActiveProfile is the temporary profile when one is loaded, else the
// persistent one.
func (s Slot) ActiveProfile() string {
	if s.TempProfile != "" {
		return s.TempProfile
	}
	return s.Profile
}

// SlotTable holds every slot. It is not safe for concurrent use.
type SlotTable struct {
	slots []Slot
}

// NewSlotTable creates count slots. Slot i starts with initial[i-1] when
// present, else defaultProfile.
func NewSlotTable(count int, defaultProfile string, initial []string) *SlotTable {
	if count < 1 {
		count = 1
	}
	slots := make([]Slot, count)
	for i := range slots {
		profile := defaultProfile
		if i < len(initial) && strings.TrimSpace(initial[i]) != "" {
			profile = strings.TrimSpace(initial[i])
		}
		slots[i] = Slot{Index: i + 1, Profile: profile}
	}
	return &SlotTable{slots: slots}
}

// Len returns the number of slots.
func (t *SlotTable) Len() int { return len(t.slots) }

// All returns a copy of every slot in order.
func (t *SlotTable) All() []Slot {
	return append([]Slot(nil), t.slots...)
}

// Get returns slot index (1-based).
func (t *SlotTable) Get(index int) (Slot, bool) {
	if index < 1 || index > len(t.slots) {
		return Slot{}, false
	}
	return t.slots[index-1], true
}

func (t *SlotTable) at(index int) (*Slot, error) {
	if index < 1 || index > len(t.slots) {
		return nil, fmt.Errorf("%w: %d (have %d)", errSlotRange, index, len(t.slots))
	}
	return &t.slots[index-1], nil
}

// LoadProfile sets the persistent profile and drops any temporary one.
func (t *SlotTable) LoadProfile(index int, name string) error {
	slot, err := t.at(index)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errNoProfile
	}
	slot.Profile = name
	slot.TempProfile = ""
	return nil
}

// LoadTempProfile overrides the active profile until the controller
// disconnects or a persistent profile is loaded.
func (t *SlotTable) LoadTempProfile(index int, name string) error {
	slot, err := t.at(index)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errNoProfile
	}
	slot.TempProfile = name
	return nil
}

// Disconnect unbinds the slot's controller and drops its temporary profile.
func (t *SlotTable) Disconnect(index int) (Slot, error) {
	slot, err := t.at(index)
	if err != nil {
		return Slot{}, err
	}
	prev := *slot
	slot.Device = ""
	slot.Connected = false
	slot.TempProfile = ""
	return prev, nil
}

// DisconnectAll disconnects every slot and returns how many were connected.
func (t *SlotTable) DisconnectAll() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].Connected {
			n++
		}
		t.slots[i].Device = ""
		t.slots[i].Connected = false
		t.slots[i].TempProfile = ""
	}
	return n
}

// Attach binds device to its existing slot or the first free one.
func (t *SlotTable) Attach(device string) (int, error) {
	for i := range t.slots {
		if t.slots[i].Device == device {
			t.slots[i].Connected = true
			return t.slots[i].Index, nil
		}
	}
	for i := range t.slots {
		if !t.slots[i].Connected {
			t.slots[i].Device = device
			t.slots[i].Connected = true
			return t.slots[i].Index, nil
		}
	}
	return 0, errSlotsFull
}

// Detach disconnects the slot bound to device.
func (t *SlotTable) Detach(device string) (int, error) {
	for i := range t.slots {
		if t.slots[i].Device == device {
			if _, err := t.Disconnect(t.slots[i].Index); err != nil {
				return 0, err
			}
			return t.slots[i].Index, nil
		}
	}
	return 0, errUnknownSlot
}

// Cycle rotates persistent profiles one slot forward: slot 1 takes the last
// slot's profile and every other slot takes its predecessor's.
func (t *SlotTable) Cycle() {
	if len(t.slots) < 2 {
		return
	}
	last := t.slots[len(t.slots)-1].Profile
	for i := len(t.slots) - 1; i > 0; i-- {
		t.slots[i].Profile = t.slots[i-1].Profile
	}
	t.slots[0].Profile = last
}

// Connected counts connected slots.
func (t *SlotTable) Connected() int {
	n := 0
	for _, s := range t.slots {
		if s.Connected {
			n++
		}
	}
	return n
}
