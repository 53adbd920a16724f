package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// defaultHome is the device document used when no seed file is configured.
func defaultHome() map[string]any {
	return map[string]any{
		"lights": map[string]any{
			"living_room": map[string]any{"power": true, "brightness": 70},
			"kitchen":     map[string]any{"power": false, "brightness": 100},
			"porch":       map[string]any{"power": false},
		},
		"thermostat": map[string]any{
			"mode":                "heat",
			"target_temperature":  21,
			"current_temperature": 19.5,
		},
		"garage": map[string]any{"door": "closed"},
		"car": map[string]any{
			"climate": map[string]any{"power": false, "temperature": 20},
			"locked":  true,
		},
	}
}

// defaultKnowledge is the QA corpus used when no knowledge file is configured.
func defaultKnowledge() []string {
	return []string{
		"The wifi network is called concierge-home and the password is on the router label.",
		"Rubbish is collected on Tuesday mornings; recycling every other Thursday.",
		"The car should be charged overnight when the battery is below 30 percent.",
		"The thermostat schedule lowers the temperature to 17 degrees after 11pm.",
		"Spare keys are kept in the lockbox by the garage; the code is shared with family only.",
	}
}

// loadHome reads a JSON device document, or returns defaultHome for an
// empty path.
func loadHome(path string) (map[string]any, error) {
	if path == "" {
		return defaultHome(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return doc, nil
}

// knowledge reads one passage per non-empty line, or returns
// defaultKnowledge for an empty path.
func knowledge(path string) ([]string, error) {
	if path == "" {
		return defaultKnowledge(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open knowledge file: %w", err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, scanner.Err()
}
