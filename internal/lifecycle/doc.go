// Package lifecycle tracks whether the host can keep a long upload request
// alive.
//
// Hub holds the current State and fans changes out to subscribers. Sources
// feed it: SignalSource maps SIGUSR1/SIGUSR2 to background/active, and
// NetlinkMonitor watches udev network interface events so a disappearing
// interface moves the upload coordinator to polling before the connection
// drops.
package lifecycle
