package models

import (
	_ "github.com/tinygraph/tinygraph/model/models/perceptron"
)
