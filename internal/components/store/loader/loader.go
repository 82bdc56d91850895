// Package loader registers the message store drivers via blank imports.
package loader

import (
	_ "github.com/Monas-project/Prot-Prototype/internal/components/store/memory"
	_ "github.com/Monas-project/Prot-Prototype/internal/components/store/mirror"
	_ "github.com/Monas-project/Prot-Prototype/internal/components/store/sqlite"
)
