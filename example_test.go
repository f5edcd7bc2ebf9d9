package fevalgrid_test

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/copasi-utils/fevalgrid"
)

func ExampleNormalize() {
	log := "1 9.5\n4 7.25\n13 3\n"

	ns, err := fevalgrid.Normalize(context.Background(), strings.NewReader(log), os.Stdout,
		fevalgrid.GridOptions{Interval: 5, Final: 21})
	if err != nil {
		panic(err)
	}
	fmt.Println("replicates:", ns.Replicates)
	// Output:
	// 1 9.5
	// 6 7.25
	// 11 7.25
	// 16 3
	// 21 3
	// replicates: 1
}

func ExampleAggregate() {
	normalized := "1 3\n6 3\n\n1 5\n6 5\n"

	table, err := fevalgrid.Aggregate(context.Background(), strings.NewReader(normalized))
	if err != nil {
		panic(err)
	}
	if err := table.WriteTSV(os.Stdout); err != nil {
		panic(err)
	}
	// Output:
	// #fevals	Mean	Std dev	N	Min	Max
	// 1	4	1	2	3	5
	// 6	4	1	2	3	5
}
