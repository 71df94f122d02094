package storage

import "fmt"

// FormatBytes 將位元組數轉成人類可讀的字串，以 1024 為底
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d bytes", bytes)
	}
	units := []string{"KB", "MB", "GB", "TB", "PB", "EB"}
	value := float64(bytes)
	index := -1
	for value >= unit && index < len(units)-1 {
		value /= unit
		index++
	}
	return fmt.Sprintf("%.2f %s", value, units[index])
}
