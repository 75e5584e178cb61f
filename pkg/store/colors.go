package store

import (
	"fmt"
	"math/rand"
)

// tagPalette is the ordered list of preferred tag colors. New tags take
// the first entry not yet used by another tag in the same project.
var tagPalette = []string{
	// Blues.
	"#1e3a8a", "#1e40af", "#2563eb", "#3b82f6", "#60a5fa",
	"#93c5fd", "#dbeafe", "#0ea5e9", "#0284c7", "#0369a1",
	// Greens.
	"#14532d", "#166534", "#15803d", "#16a34a", "#22c55e",
	"#4ade80", "#bbf7d0", "#10b981", "#059669", "#047857",
	// Reds.
	"#7f1d1d", "#991b1b", "#dc2626", "#ef4444", "#f87171",
	"#fca5a5", "#fecaca", "#e11d48", "#be123c", "#9f1239",
	// Oranges.
	"#9a3412", "#c2410c", "#ea580c", "#f97316", "#fb923c",
	"#fdba74", "#fed7aa", "#f59e0b", "#d97706", "#b45309",
	// Purples.
	"#581c87", "#6b21a8", "#7c3aed", "#8b5cf6", "#a78bfa",
	"#c4b5fd", "#e9d5ff", "#a855f7", "#9333ea", "#7e22ce",
	// Pinks.
	"#831843", "#9d174d", "#be185d", "#db2777", "#ec4899",
	"#f472b6", "#f9a8d4", "#e879f9", "#d946ef", "#c026d3",
	// Yellows.
	"#92400e", "#a16207", "#ca8a04", "#eab308", "#facc15",
	"#fde047", "#fef08a",
	// Cyans.
	"#164e63", "#155e75", "#0891b2", "#0e7490", "#06b6d4",
	"#22d3ee", "#67e8f9", "#a7f3d0", "#6ee7b7", "#34d399",
	// Grays.
	"#111827", "#1f2937", "#374151", "#4b5563", "#6b7280",
	"#9ca3af", "#d1d5db", "#e5e7eb", "#f3f4f6", "#f9fafb",
	// Accents.
	"#fbbf24", "#fb7185",
}

// nextAvailableColor picks the first palette color not in used, falling
// back to random 24-bit colors once the palette is exhausted.
func nextAvailableColor(used map[string]struct{}) string {
	for _, color := range tagPalette {
		if _, taken := used[color]; !taken {
			return color
		}
	}

	for {
		color := fmt.Sprintf("#%06x", rand.Intn(1<<24))
		if _, taken := used[color]; !taken {
			return color
		}
	}
}
