package main

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/google/subcommands"

	"coinfolio.mini/cfm/internal/tendermint"
)

func TestParsePairs(t *testing.T) {
	cases := []struct {
		in   string
		want [][]uint64
	}{
		{"", [][]uint64{}},
		{"1:100", [][]uint64{{1, 100}}},
		{"1:100, 2:0,1:5", [][]uint64{{1, 100}, {2, 0}, {1, 5}}},
		{"7:18446744073709551615", [][]uint64{{7, ^uint64(0)}}},
	}
	for _, c := range cases {
		got, err := parsePairs(c.in)
		if err != nil {
			t.Errorf("parsePairs(%q): %v", c.in, err)
			continue
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("parsePairs(%q) = %v; want %v", c.in, got, c.want)
		}
	}
}

func TestParsePairsErrors(t *testing.T) {
	for _, in := range []string{"1", "1:", "x:2", "1:-3", "1:2,", "1:18446744073709551616"} {
		if _, err := parsePairs(in); err == nil {
			t.Errorf("parsePairs(%q) should fail", in)
		}
	}
}

func TestRandomSeedVaries(t *testing.T) {
	if randomSeed() == randomSeed() {
		t.Errorf("two random seeds should differ")
	}
}

func TestReport(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "ledger error code",
			err:  &tendermint.RejectedError{Stage: "deliver_tx", Result: tendermint.TxResult{Code: 3, Data: []byte{2}, Log: "Receiver doesn't exist", Codespace: "cfm"}},
			want: "rejected: error 2 (Receiver doesn't exist)\n",
		},
		{
			name: "wrapped ledger error code",
			err:  fmt.Errorf("broadcast: %w", &tendermint.RejectedError{Stage: "deliver_tx", Result: tendermint.TxResult{Code: 3, Data: []byte{3}, Codespace: "cfm"}}),
			want: "rejected: error 3 (Insufficient currency amount)\n",
		},
		{
			name: "rejection without code",
			err:  &tendermint.RejectedError{Stage: "deliver_tx", Result: tendermint.TxResult{Code: 3, Log: "execution: receiver holding would overflow", Codespace: "cfm"}},
			want: "rejected by deliver_tx: execution: receiver holding would overflow\n",
		},
		{
			name: "admission failure",
			err:  &tendermint.RejectedError{Stage: "check_tx", Result: tendermint.TxResult{Code: 2, Log: "signature is not attributable to transfer signer", Codespace: "cfm"}},
			want: "rejected by check_tx: signature is not attributable to transfer signer\n",
		},
		{
			name: "transport failure",
			err:  errors.New("connection refused"),
			want: "Error: connection refused\n",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var buf bytes.Buffer
			if status := reportTo(&buf, c.err); status != subcommands.ExitFailure {
				t.Errorf("status = %v", status)
			}
			if buf.String() != c.want {
				t.Errorf("output = %q, want %q", buf.String(), c.want)
			}
		})
	}
}
