package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"AgentKit-Chain/sdk/go/agentkit"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "monitor address")
	token := flag.String("token", os.Getenv("AGENTKIT_TOKEN"), "bearer token")
	follow := flag.Bool("follow", false, "stream events after printing the state")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := agentkit.NewClient(*addr, nil)
	if err != nil {
		log.Fatal(err)
	}
	client.SetAccessToken(*token)

	info, err := client.Agent(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s (%s/%s) is %s on %s\n", info.Name, info.Type, info.Autonomy, info.State.Status, info.Network)
	fmt.Printf("actions=%d success=%.0f%% avg_gas=%.0f\n",
		info.State.Metrics.TotalActions, info.State.Metrics.SuccessRate*100, info.State.Metrics.AvgGasUsed)

	records, err := client.Actions(ctx, 5)
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range records {
		fmt.Printf("  %-10s success=%-5t gas=%d tx=%s\n", r.ActionType, r.Success, r.GasUsed, r.TxHash)
	}

	if !*follow {
		return
	}
	err = client.Stream(ctx, func(evt agentkit.Event) error {
		fmt.Printf("%s %-16s %s\n", evt.Timestamp.Format("15:04:05"), evt.Type, evt.Data)
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}
}
