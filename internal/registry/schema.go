package registry

import (
	"fmt"

	"github.com/dyluth/clipsync/pkg/clipboard"
)

// Redis key pattern helpers
//
// All keys are namespaced so several clipsync deployments can share one
// Redis server.
//
// Key pattern: clipsync:{namespace}:{entity}:{id}

// UserKey returns the hash holding a user record.
// Pattern: clipsync:{namespace}:user:{user_id}
func UserKey(namespace, userID string) string {
	return fmt.Sprintf("clipsync:%s:user:%s", namespace, userID)
}

// UserDevicesKey returns the set of device ids owned by a user.
// Pattern: clipsync:{namespace}:user:{user_id}:devices
func UserDevicesKey(namespace, userID string) string {
	return fmt.Sprintf("clipsync:%s:user:%s:devices", namespace, userID)
}

// UserByNameKey returns the name -> user id index.
// Pattern: clipsync:{namespace}:user_by_name:{name}
func UserByNameKey(namespace, name string) string {
	return fmt.Sprintf("clipsync:%s:user_by_name:%s", namespace, name)
}

// DeviceKey returns the hash holding a device record.
// Pattern: clipsync:{namespace}:device:{device_id}
func DeviceKey(namespace, deviceID string) string {
	return fmt.Sprintf("clipsync:%s:device:%s", namespace, deviceID)
}

// DeviceOwnerKey returns the device -> owning user id link.
// Pattern: clipsync:{namespace}:device:{device_id}:user
func DeviceOwnerKey(namespace, deviceID string) string {
	return fmt.Sprintf("clipsync:%s:device:%s:user", namespace, deviceID)
}

// DeviceByKeyKey returns the (type, name) -> device id index that enforces uniqueness.
// Pattern: clipsync:{namespace}:device_by_key:{type}:{name}
func DeviceByKeyKey(namespace string, deviceType clipboard.DeviceType, name string) string {
	return fmt.Sprintf("clipsync:%s:device_by_key:%s:%s", namespace, deviceType, name)
}

// deviceToHash converts a Device to a Redis hash.
func deviceToHash(d *clipboard.Device) map[string]interface{} {
	return map[string]interface{}{
		"id":           d.ID,
		"name":         d.Name,
		"type":         string(d.Type),
		"notification": d.Notification,
	}
}

// hashToDevice converts a Redis hash back to a Device.
func hashToDevice(hash map[string]string) (*clipboard.Device, error) {
	deviceType, err := clipboard.ParseDeviceType(hash["type"])
	if err != nil {
		return nil, fmt.Errorf("stored device %s: %w", hash["id"], err)
	}

	return &clipboard.Device{
		ID:           hash["id"],
		Name:         hash["name"],
		Type:         deviceType,
		Notification: hash["notification"],
	}, nil
}
