package cmd

import (
	"fmt"
	"io"
)

const banner = `
                 _                     _       
 __      __ ___ | |__    __ _   __ _  | |_  ___ 
 \ \ /\ / // _ \| '_ \  / _` + "`" + ` | / _` + "`" + ` | | __|/ _ \
  \ V  V /|  __/| |_) || (_| || (_| | | |_|  __/
   \_/\_/  \___||_.__/  \__, | \__,_|  \__|\___|
                        |___/                   
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Library Session Gateway - Version %s\x1b[0m\n\n", Version)
}
