//go:build generator
/*
	Travelog
	Copyright (c) 2019 the Travelog authors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package main

import (
	"fmt"
	"os"

	"github.com/dave/jennifer/jen"
)

func main() {
	source := jen.NewFile("main")
	source.HeaderComment("//go:generate go run generator.go")

	list := sourcePackages()
	if len(list) == 0 {
		return
	}

	for _, src := range list {
		source.Anon(src)
	}

	f, err := os.Create("sources_gen.go")
	if err != nil {
		genFailed(err)
	}
	defer f.Close()

	fmt.Fprintf(f, "%#v", source)
}

// sourcePackages lists the import paths of every package under
// sources/ so their init registrations land in the binary.
func sourcePackages() []string {
	entries, err := os.ReadDir("sources")
	if err != nil {
		genFailed(err)
	}

	var packages []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		packages = append(packages, "github.com/travelog/travelog/sources/"+entry.Name())
	}

	return packages
}

func genFailed(err error) {
	fmt.Fprintf(os.Stderr, "generating sources_gen.go failed: %s", err)
	os.Exit(1)
}
