package mcpserver

// Tool descriptions with interpretation guidance for LLMs.

func describeScan() string {
	return `Scores the commit history of one or more git repositories against a capability rubric, fits a logistic growth curve to cumulative capability and projects when growth will plateau.

USE WHEN:
- Estimating when a project will reach feature completeness
- Checking whether capability growth is accelerating or flattening
- Comparing how much each repository contributes to a shared goal
- Tracking how the projected convergence date moves between scans

INTERPRETING RESULTS:
- estimate.date: when capability reaches target_fraction (default 95%) of the fitted asymptote
- estimate.determined=false: no usable fit yet; estimate.reason says why
- confidence high: R² >= 0.95, history at least as long as the projection, components agree
- confidence low: poor fit, very short history, or components disagree
- fits[].percent_of_asymptote below 50: still in the accelerating phase
- fits[].status insufficient_data or insufficient_history: scan again after more commits
- repos[].capability_percent: that repository's share of combined capability

METRICS RETURNED:
- Combined, per-repository and per-category cumulative series
- Logistic fits for capability and commit count, linear sophistication trend
- Convergence estimate with component dates and confidence factors
- Classification and cache statistics, recent scan history`
}

func describeRubric() string {
	return `Lists the capability rubric used to score commits: categories, weights, high-level categories and keywords.

USE WHEN:
- Explaining why a commit did or did not score
- Checking the effect of a custom rubric before scanning
- Reviewing which categories count toward sophistication

INTERPRETING RESULTS:
- weight 1-5: points a fully matching commit earns in that category before diffstat adjustment
- high_level: categories that indicate advanced capability
- max_score: cap on a single commit's total score
- fingerprint: changes whenever categories, weights or patterns change

METRICS RETURNED:
- Categories in descending weight order with their patterns
- High-level category names, maximum score and rubric fingerprint`
}
