// Package command implements the operator commands of a running bridge.
//
// Commands arrive as argument lists from the console host (lines starting
// with /bridge) and write their output to the console:
//
//	reload                       reread the config file, converge features
//	hotreload                    reread the config file, rebuild features
//	info                         configuration, listen URLs, curl example
//	feature list                 feature table
//	feature <id> enable|disable  toggle and persist one feature
//	history [count]              recent journal events
//
// The table and info renderers are exported for the CLI.
package command
