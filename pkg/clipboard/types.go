package clipboard

import (
	"fmt"
	"time"
)

// DeviceType is the closed set of device classes. The string values are the
// names used on the wire and in every registry backend.
type DeviceType string

const (
	DeviceTypeIOS     DeviceType = "IOS"
	DeviceTypeAndroid DeviceType = "Android"
	DeviceTypeWindows DeviceType = "Windows"
	DeviceTypeMac     DeviceType = "Mac"
	DeviceTypeLinux   DeviceType = "Linux"
)

// DeviceTypes lists every valid DeviceType in declaration order.
var DeviceTypes = []DeviceType{
	DeviceTypeIOS,
	DeviceTypeAndroid,
	DeviceTypeWindows,
	DeviceTypeMac,
	DeviceTypeLinux,
}

// ParseDeviceType converts a wire tag into a DeviceType.
// Returns ErrInvalidDeviceType for anything outside the enumeration.
func ParseDeviceType(s string) (DeviceType, error) {
	dt := DeviceType(s)
	if err := dt.Validate(); err != nil {
		return "", err
	}
	return dt, nil
}

// Validate checks if the DeviceType is a valid enum value.
func (dt DeviceType) Validate() error {
	switch dt {
	case DeviceTypeIOS, DeviceTypeAndroid, DeviceTypeWindows, DeviceTypeMac, DeviceTypeLinux:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDeviceType, string(dt))
	}
}

// EntryType tags the payload kind of a clipboard entry.
type EntryType string

const (
	EntryTypeText  EntryType = "Text"
	EntryTypeImage EntryType = "Image"

	// EntryTypeNone is reserved for the empty entry returned when nothing is pending.
	EntryTypeNone EntryType = "None"
)

// Validate checks if the EntryType can be pushed. None is only produced by the server.
func (et EntryType) Validate() error {
	switch et {
	case EntryTypeText, EntryTypeImage:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEntryType, string(et))
	}
}

// Entry is a single clipboard value. Entries are immutable once appended to a
// mailbox; Seq is assigned at append time and defines their order.
type Entry struct {
	Data string    `json:"data"`
	Type EntryType `json:"type"`
	Date int64     `json:"date"` // Unix timestamp in milliseconds

	Seq uint64 `json:"-"`
}

// EmptyEntry returns the entry served when a device has nothing pending.
func EmptyEntry() Entry {
	return Entry{Data: "", Type: EntryTypeNone, Date: 0}
}

// NewEntry creates a text or image entry stamped with the current time.
func NewEntry(data string, entryType EntryType) Entry {
	return Entry{Data: data, Type: entryType, Date: time.Now().UnixMilli()}
}

// IsEmpty reports whether e is the empty entry.
func (e Entry) IsEmpty() bool {
	return e.Type == EntryTypeNone && e.Data == "" && e.Date == 0
}

// Validate checks an entry received from a device.
func (e Entry) Validate() error {
	if err := e.Type.Validate(); err != nil {
		return err
	}
	if e.Date < 0 {
		return fmt.Errorf("%w: negative date %d", ErrInvalidInput, e.Date)
	}
	return nil
}

// String renders the entry for log lines. Image payloads are not printed.
func (e Entry) String() string {
	stamp := time.UnixMilli(e.Date).Format("2006-01-02 15:04:05")
	switch e.Type {
	case EntryTypeText:
		return fmt.Sprintf("Clipboard[%s]: %s", stamp, e.Data)
	case EntryTypeImage:
		return fmt.Sprintf("Clipboard[%s]: Image", stamp)
	default:
		return fmt.Sprintf("Clipboard[%s]: None", stamp)
	}
}

// Device is a registered client. (Name, Type) is unique within a registry.
type Device struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Type         DeviceType `json:"type"`
	Notification string     `json:"notification"` // Bark key or other push token, may be empty
}

// String renders a device as "name(Type)".
func (d *Device) String() string {
	return fmt.Sprintf("%s(%s)", d.Name, d.Type)
}

// User owns a set of devices.
type User struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Devices []*Device `json:"devices"`
}

// DeviceIDs returns the ids of every device owned by the user.
func (u *User) DeviceIDs() []string {
	ids := make([]string, 0, len(u.Devices))
	for _, d := range u.Devices {
		ids = append(ids, d.ID)
	}
	return ids
}

// DeviceRef is the claimed device identity carried by requests: a name and a
// type tag that has not been validated yet.
type DeviceRef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Parse validates the reference and returns its DeviceType.
func (r DeviceRef) Parse() (DeviceType, error) {
	if r.Name == "" {
		return "", fmt.Errorf("%w: device name cannot be empty", ErrInvalidInput)
	}
	return ParseDeviceType(r.Type)
}
