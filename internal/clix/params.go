package clix

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"rustler/internal/models"
)

type PaginationParams struct {
	Limit  int
	Offset int
}

func ParsePagination(flags *pflag.FlagSet) (PaginationParams, error) {
	limit, _ := flags.GetInt("limit")
	offset, _ := flags.GetInt("offset")
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return PaginationParams{Limit: limit, Offset: offset}, nil
}

// ParseStatuses reads the comma separated --status flag.
func ParseStatuses(flags *pflag.FlagSet) ([]models.FileStatus, error) {
	raw, _ := flags.GetString("status")
	return ParseStatusList(raw)
}

// ParseStatusList splits a comma separated status filter, dropping blanks
// and duplicates. An unknown status is an error.
func ParseStatusList(raw string) ([]models.FileStatus, error) {
	var statuses []models.FileStatus
	seen := make(map[models.FileStatus]bool)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		status, ok := models.ParseStatus(trimmed)
		if !ok {
			return nil, fmt.Errorf("%w: unknown status %q (want one of %s)", models.ErrValidation, trimmed, knownStatuses())
		}
		if !seen[status] {
			seen[status] = true
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

func knownStatuses() string {
	all := models.AllStatuses()
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
