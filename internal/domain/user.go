// Package domain contains core domain types for the Scout application.
package domain

import (
	"strings"
	"time"
)

// SkillLevel is a user's self-reported level or an issue's estimated difficulty.
type SkillLevel string

const (
	LevelBeginner     SkillLevel = "beginner"
	LevelIntermediate SkillLevel = "intermediate"
	LevelAdvanced     SkillLevel = "advanced"
)

// Rank maps a skill level to an ordinal used by difficulty matching.
func (l SkillLevel) Rank() int {
	switch l {
	case LevelBeginner:
		return 0
	case LevelIntermediate:
		return 1
	case LevelAdvanced:
		return 2
	default:
		return 1
	}
}

// ParseSkillLevel normalizes a free-form level string to a canonical SkillLevel.
// Unrecognized input maps to intermediate.
func ParseSkillLevel(s string) SkillLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "beginner", "easy", "starter", "novice":
		return LevelBeginner
	case "advanced", "hard", "difficult", "expert":
		return LevelAdvanced
	default:
		return LevelIntermediate
	}
}

// User represents a Scout user. Anonymous visitors get a generated user ID from
// the identity cookie; registered users additionally carry email and password
// credentials.
type User struct {
	UserID             string     `json:"user_id"`
	Username           string     `json:"username"`
	Email              string     `json:"email,omitempty"`
	PasswordHash       string     `json:"-"`
	PreferredLanguages []string   `json:"preferred_languages"`
	Level              SkillLevel `json:"level"`
	LastSeenAt         time.Time  `json:"last_seen_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsRegistered returns true if the user completed registration.
func (u *User) IsRegistered() bool {
	return u.PasswordHash != ""
}

// PrefersLanguage reports whether lang is in the user's preferred list.
func (u *User) PrefersLanguage(lang string) bool {
	lang = strings.ToLower(strings.TrimSpace(lang))
	for _, l := range u.PreferredLanguages {
		if strings.ToLower(l) == lang {
			return true
		}
	}
	return false
}

// UserSkill tracks per-language progress, updated when an issue is marked solved.
type UserSkill struct {
	UserID       string     `json:"user_id"`
	Language     string     `json:"language"`
	Level        SkillLevel `json:"level"`
	SolvedCount  int        `json:"solved_count"`
	LastSolvedAt time.Time  `json:"last_solved_at"`
}

// UserStats aggregates a user's solved-issue history for the dashboard and the
// stats tool.
type UserStats struct {
	TotalSolved  int            `json:"total_solved"`
	ByLanguage   map[string]int `json:"by_language"`
	ByDifficulty map[string]int `json:"by_difficulty"`
	RecentSolved []SolvedIssue  `json:"recent_solved"`
}
