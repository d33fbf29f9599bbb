// Package gogp provides Gaussian process regression and classification for Go,
// built around sparse variational inference with inducing points.
//
// GoGP offers a small, composable API: a kernel, a likelihood, and an
// inference engine are wired into a model container that exposes Fit and
// Predict, while the train package drives mini-batch optimization,
// evaluation, and checkpointing.
//
// # Features
//
// - Sparse variational inference: scalable ELBO training with inducing points
// - Exact inference: closed-form marginal likelihood for the non-sparse case
// - Leave-one-out objective: optional alternation with the ELBO during training
// - Gaussian and Bernoulli likelihoods: regression and probit classification
// - Checkpointing: atomic save/restore of all parameters and optimizer state
// - Robust Error Handling: factorization failures surface as typed errors
//
// # Quick Start
//
// Fit a sparse GP to noisy 1-D data:
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/gogp/dataset"
//	    "github.com/YuminosukeSato/gogp/train"
//	    "gonum.org/v1/gonum/mat"
//	)
//
//	func main() {
//	    X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
//	    y := mat.NewDense(4, 1, []float64{0.8, 0.9, 0.1, -0.7})
//
//	    data, err := dataset.New(X, y)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    cfg := train.DefaultConfig()
//	    cfg.NumInducing = 4
//	    cfg.TrainSteps = 100
//
//	    model, err := train.TrainGP(data, nil, cfg)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    mean, variance, err := model.Predict(X, 0)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(mean, variance)
//	}
//
// # Packages
//
// The library is organized into several packages:
//
//   - gp: the model container (kernel + likelihood + inference engine)
//   - kernel: covariance functions (RBF, isotropic or ARD)
//   - likelihood: observation models (Gaussian, Bernoulli probit)
//   - inference: variational and exact inference engines
//   - train: training loop, evaluation, configuration
//   - optimize: Adam optimizer and numerical gradients
//   - dataset: mini-batch extraction with epoch counting
//   - metrics: evaluation metrics (RMSE, MAE, accuracy, MNLL)
//   - checkpoint: atomic parameter snapshots
//   - export: prediction CSV and posterior plots
package gogp
