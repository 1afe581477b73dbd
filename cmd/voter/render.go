package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"wevote/internal/roomview"
)

func formatScore(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

func formatDeck(deck []float64, selection *float64) string {
	cards := make([]string, 0, len(deck))
	for _, card := range deck {
		label := formatScore(card)
		if selection != nil && *selection == card {
			label = "[" + label + "]"
		}
		cards = append(cards, label)
	}
	return strings.Join(cards, " ")
}

// render prints the room screen. Scores stay hidden until the room locks.
func render(w io.Writer, roomID, name string, host bool, deck []float64, v roomview.View) {
	fmt.Fprintf(w, "\nRoom %s  (%s, %s)\n", roomID, v.Phase, v.Connectivity)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range v.Roster {
		label := e.Name
		if e.Name == name {
			label += " (you)"
		}
		status := "..."
		switch {
		case v.Locked && e.Voted():
			status = formatScore(*e.Score)
		case v.Locked:
			status = "-"
		case e.Voted():
			status = "OK"
		}
		fmt.Fprintf(tw, "  %s\t%s\n", label, status)
	}
	tw.Flush()

	if v.Locked {
		if v.Average != nil {
			fmt.Fprintf(w, "Average: %s\n", formatScore(*v.Average))
		} else {
			fmt.Fprintln(w, "Average: no votes")
		}
	} else {
		fmt.Fprintf(w, "Cards: %s\n", formatDeck(deck, v.Selection))
	}
	if v.Unconfirmed {
		fmt.Fprintln(w, "Your last vote was not confirmed by the server.")
	}

	cmds := []string{"<card> to vote (again to withdraw)"}
	if host {
		cmds = append(cmds, "lock", "restart")
	}
	cmds = append(cmds, "quit")
	fmt.Fprintf(w, "> %s\n", strings.Join(cmds, " | "))
}
