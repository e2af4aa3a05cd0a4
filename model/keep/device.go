package keep

import (
	"sort"
)

// Device is a user-controlled device participating in the account. The
// substrate never inspects key material; the public key is only carried so
// that signatures over event payloads can be checked by the consumed crypto
// library.
type Device struct {
	DeviceID  DeviceID
	PublicKey []byte
	Name      string
}

// ID returns the device identifier.
func (d Device) ID() DeviceID {
	return d.DeviceID
}

// DeviceList is a slice of devices with set-style helpers.
type DeviceList []Device

// IDs returns the identifiers of all devices in canonical (byte) order.
func (l DeviceList) IDs() IdentifierList {
	ids := make(IdentifierList, 0, len(l))
	for _, d := range l {
		ids = append(ids, d.DeviceID)
	}
	sort.Sort(ids)
	return ids
}

// ByID returns the device with the given ID, if present.
func (l DeviceList) ByID(id DeviceID) (Device, bool) {
	for _, d := range l {
		if d.DeviceID == id {
			return d, true
		}
	}
	return Device{}, false
}

// Filter returns the devices matching the given predicate.
func (l DeviceList) Filter(keep func(Device) bool) DeviceList {
	var out DeviceList
	for _, d := range l {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}
