package backend

import (
	_ "github.com/tinygraph/tinygraph/ml/backend/cpu"
)
