// clashdash manages Clash-compatible control servers from the command line.
//
// Usage:
//
//	# list saved servers with their last known status
//	clashdash servers list
//
//	# add a server and check it
//	clashdash servers add --name home --host 192.168.1.1 --port 9090 --secret s3cret
//
//	# check every server once
//	clashdash check
//
//	# run the web API, the hub and the poller
//	clashdash serve --config clashdash.ini
package main

func main() {
	Execute()
}
