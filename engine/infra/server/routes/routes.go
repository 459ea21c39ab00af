package routes

import "fmt"

// Version is the API version used in routing.
const Version = "v0"

// Base returns the versioned API base path (e.g., "/api/v0").
func Base() string {
	return fmt.Sprintf("/api/%s", Version)
}

// Workflows returns the workflows base path (e.g., "/api/v0/workflows").
func Workflows() string {
	return Base() + "/workflows"
}

// Processes returns the loaded definitions path (e.g., "/api/v0/processes").
func Processes() string {
	return Base() + "/processes"
}

// Healthz is the liveness probe path.
func Healthz() string {
	return "/healthz"
}
