package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/theinterneti/courier/internal/delivery"
)

// Helper functions for common HTTP responses

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// writeOpError maps service errors to status codes: backpressure is 429,
// validation failures are 400, everything else is 500.
func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, delivery.ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// isValidationError distinguishes caller mistakes from internal faults.
// Validation errors originate in the delivery and service packages.
func isValidationError(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"delivery: ", "deliverysvc: "} {
		if len(msg) >= len(prefix) && msg[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// parseLimit parses a limit query value; 0 for empty or invalid input.
func parseLimit(limitStr string) int {
	if limitStr == "" {
		return 0
	}
	if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
		return limit
	}
	return 0
}

// parseSeq parses a sequence query value; 0 for empty or invalid input.
func parseSeq(s string) uint64 {
	if s == "" {
		return 0
	}
	if seq, err := strconv.ParseUint(s, 10, 64); err == nil {
		return seq
	}
	return 0
}
