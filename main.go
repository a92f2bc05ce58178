// Command rostertrack tracks graduate student rosters through the web archive.
package main

import "github.com/JakeFAU/rostertrack/cmd"

func main() {
	cmd.Execute()
}
