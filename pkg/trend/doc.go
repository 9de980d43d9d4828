// Package trend estimates the rate of change and noise level of a glucose
// reading series.
//
// The classifier fits an ordinary-least-squares line to the readings in a
// trailing 15-minute window, excluding unreliable readings, and maps the
// slope (mg/dL per minute) to a trend arrow and the residual spread to a
// noise tier. Fewer than three usable readings yield no trend.
package trend
