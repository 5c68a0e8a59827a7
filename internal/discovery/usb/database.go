// internal/discovery/usb/database.go - Known Board Database
package usb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/gousb"
)

// BoardInfo describes one recognized microcontroller board
type BoardInfo struct {
	Name       string `json:"name"`
	DeviceType string `json:"type"`
}

// DeviceDatabase maps USB VID:PID pairs to known microcontroller boards.
// The built-in table covers the common hobbyist and industrial boards; an
// optional JSON file overlays user-defined entries on top of it.
type DeviceDatabase struct {
	mu     sync.RWMutex
	boards map[string]BoardInfo // keyed "VVVV:PPPP", uppercase hex
	path   string               // overlay file, empty to disable persistence
}

// NewDeviceDatabase creates the database with the built-in board table and,
// when path is non-empty, merges the JSON overlay from disk. A missing
// overlay file is created with the defaults so users have a template to
// extend.
func NewDeviceDatabase(path string) (*DeviceDatabase, error) {
	db := &DeviceDatabase{
		boards: make(map[string]BoardInfo),
		path:   path,
	}
	db.initializeDatabase()

	if path == "" {
		return db, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := db.save(); err != nil {
			return nil, fmt.Errorf("failed to create device database: %w", err)
		}
		return db, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read device database: %w", err)
	}

	custom := make(map[string]BoardInfo)
	if err := json.Unmarshal(data, &custom); err != nil {
		return nil, fmt.Errorf("failed to parse device database %s: %w", path, err)
	}
	for key, info := range custom {
		db.boards[normalizeKey(key)] = info
	}
	return db, nil
}

// initializeDatabase populates the built-in board table
func (db *DeviceDatabase) initializeDatabase() {
	// Arduino
	db.boards["2341:0043"] = BoardInfo{Name: "Arduino Uno", DeviceType: "arduino"}
	db.boards["2341:0001"] = BoardInfo{Name: "Arduino Mega", DeviceType: "arduino"}
	db.boards["2341:0036"] = BoardInfo{Name: "Arduino Leonardo", DeviceType: "arduino"}
	db.boards["2341:8036"] = BoardInfo{Name: "Arduino Leonardo", DeviceType: "arduino"}
	db.boards["2341:0010"] = BoardInfo{Name: "Arduino Mega 2560", DeviceType: "arduino"}
	db.boards["2A03:0043"] = BoardInfo{Name: "Arduino Uno", DeviceType: "arduino"}
	db.boards["2A03:0001"] = BoardInfo{Name: "Arduino Mega", DeviceType: "arduino"}

	// ESP32 via the usual USB-UART bridges
	db.boards["10C4:EA60"] = BoardInfo{Name: "ESP32 (Silicon Labs CP210x)", DeviceType: "esp32"}
	db.boards["1A86:7523"] = BoardInfo{Name: "ESP32 (CH340)", DeviceType: "esp32"}

	// Raspberry Pi Pico
	db.boards["2E8A:0005"] = BoardInfo{Name: "Raspberry Pi Pico", DeviceType: "pico"}
	db.boards["2E8A:000A"] = BoardInfo{Name: "Raspberry Pi Pico W", DeviceType: "pico"}

	// STM32
	db.boards["0483:5740"] = BoardInfo{Name: "STM32 Virtual COM Port", DeviceType: "stm32"}
	db.boards["0483:DF11"] = BoardInfo{Name: "STM32 DFU Mode", DeviceType: "stm32"}

	// Teensy
	db.boards["16C0:0483"] = BoardInfo{Name: "Teensy", DeviceType: "teensy"}
	db.boards["16C0:0478"] = BoardInfo{Name: "Teensy Serial", DeviceType: "teensy"}

	// Particle
	db.boards["2B04:C006"] = BoardInfo{Name: "Particle Photon", DeviceType: "particle"}
	db.boards["2B04:C008"] = BoardInfo{Name: "Particle P1", DeviceType: "particle"}
	db.boards["2B04:D006"] = BoardInfo{Name: "Particle Electron", DeviceType: "particle"}

	// Nordic nRF
	db.boards["1915:521F"] = BoardInfo{Name: "Nordic nRF52 DFU", DeviceType: "nordic"}
	db.boards["1915:520F"] = BoardInfo{Name: "Nordic nRF52 USB CDC", DeviceType: "nordic"}
}

// Lookup finds a board by its "VVVV:PPPP" key
func (db *DeviceDatabase) Lookup(vidPid string) (BoardInfo, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	info, ok := db.boards[normalizeKey(vidPid)]
	return info, ok
}

// LookupID finds a board by its numeric USB identifiers
func (db *DeviceDatabase) LookupID(vendorID, productID gousb.ID) (BoardInfo, bool) {
	return db.Lookup(FormatKey(vendorID, productID))
}

// AddBoard registers a user-defined board and persists the overlay file
func (db *DeviceDatabase) AddBoard(vidPid string, info BoardInfo) error {
	db.mu.Lock()
	db.boards[normalizeKey(vidPid)] = info
	db.mu.Unlock()
	return db.save()
}

// Count returns the number of known boards
func (db *DeviceDatabase) Count() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.boards)
}

func (db *DeviceDatabase) save() error {
	if db.path == "" {
		return nil
	}

	db.mu.RLock()
	data, err := json.MarshalIndent(db.boards, "", "    ")
	db.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(db.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(db.path, data, 0o644)
}

// FormatKey renders numeric USB identifiers as a "VVVV:PPPP" key
func FormatKey(vendorID, productID gousb.ID) string {
	return fmt.Sprintf("%04X:%04X", uint16(vendorID), uint16(productID))
}

func normalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
