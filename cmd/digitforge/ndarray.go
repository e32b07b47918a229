package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"digitforge/internal/ndarray"
)

func newNDArrayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ndarray",
		Short: "Create a 2x2 int array, print it, double it in place and print it again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNDArray(cmd.OutOrStdout())
		},
	}
}

func runNDArray(w io.Writer) error {
	m := ndarray.NewBaseManager()
	defer m.Close()

	nd, err := m.Create([]int{1, 2, 3, 4}, ndarray.Shape{2, 2})
	if err != nil {
		return err
	}
	fmt.Fprint(w, nd)
	if _, err := nd.MulInPlace(2); err != nil {
		return err
	}
	fmt.Fprint(w, nd)
	return nil
}
