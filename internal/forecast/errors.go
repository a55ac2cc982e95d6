package forecast

import "errors"

// ErrInsufficientHistory reports that the training series is too short for
// the requested technique or hyperparameters. Backtest callers score such
// candidates as unusable instead of failing the whole search.
var ErrInsufficientHistory = errors.New("insufficient history for forecast")
