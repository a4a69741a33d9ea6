// Package panel is the interactive control panel for LAN lights.
//
// The panel is a Bubble Tea program. Its event loop never touches the
// network: discovery runs as a tea.Cmd that blocks on the backend, and
// Apply hands a snapshot of the slider values to the backend's
// fire-and-forget submit and returns at once. Command outcomes come back
// through a channel that the model re-arms after each result.
//
// # Layout
//
//	LUMEN  LAN light control
//	Lights                 ╭──────────────────────────────╮
//	Kitchen                │› Hue        ████░░░░   120°  │
//	d073d5000001 • ...     │  Saturation ██████░░    80%  │
//	Hallway                │  Brightness ████████   100%  │
//	d073d5000002 • ...     │  Kelvin     ███░░░░░  3500K  │
//	                       │                              │
//	                       │  Power      ● on             │
//	                       ╰──────────────────────────────╯
//
// Keys: tab cycles channels, ←/→ adjust, shift+←/→ adjust by 10%, p toggles
// power, enter applies to the selected light, r rescans, q quits.
package panel
