package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	ice "gortc.io/iceagent"
)

func getKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "generate a fresh local ufrag/password pair",
		Run: func(cmd *cobra.Command, args []string) {
			creds, err := ice.GenerateCredentials(time.Now())
			if err != nil {
				fmt.Println(err)
				return
			}
			fmt.Printf("ufrag: %s\npassword: %s\n", creds.Ufrag, creds.Password)
		},
	}
	return cmd
}
